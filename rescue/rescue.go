package rescue

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultLangID is used when a rescue carries no language identifier.
const DefaultLangID = "en"

// Quotation is one entry of a rescue's append-only quote log.
type Quotation struct {
	Message    string
	Author     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastAuthor string
}

// Equal reports whether two quotations carry the same values.
func (q Quotation) Equal(o Quotation) bool {
	return q.Message == o.Message &&
		q.Author == o.Author &&
		q.CreatedAt.Equal(o.CreatedAt) &&
		q.UpdatedAt.Equal(o.UpdatedAt) &&
		q.LastAuthor == o.LastAuthor
}

// MarkForDeletion flags a rescue for review before deletion. Reporter and
// Reason are nil when absent.
type MarkForDeletion struct {
	Marked   bool
	Reporter *string
	Reason   *string
}

// Equal reports whether two markers carry the same values.
func (m MarkForDeletion) Equal(o MarkForDeletion) bool {
	return m.Marked == o.Marked && ptrEqual(m.Reporter, o.Reporter) && ptrEqual(m.Reason, o.Reason)
}

// Rat is a participant assigned to rescues.
type Rat struct {
	ID       uuid.UUID
	Name     string
	Platform Platform
}

// Rescue is a single tracked case.
type Rescue struct {
	// ID is assigned by the API; uuid.Nil until the first create round-trip.
	ID       uuid.UUID
	Client   string
	System   string
	IRCNick  string
	Title    string
	CodeRed  bool
	Status   Status
	Outcome  *Outcome
	Platform Platform
	LangID   string

	CreatedAt time.Time
	UpdatedAt time.Time

	Quotes           []Quotation
	UnidentifiedRats []string
	Rats             []Rat
	FirstLimpet      uuid.UUID
	MarkForDeletion  MarkForDeletion

	// HasEpic is derived from the API's epic relationship and never sent back.
	HasEpic bool

	// BoardIndex is assigned locally by the board, never by the API.
	BoardIndex *int
}

// New returns a rescue with the defaults the API applies to fresh cases.
func New(client string) Rescue {
	return Rescue{
		Client:   client,
		IRCNick:  client,
		Status:   StatusOpen,
		Platform: PlatformUnknown,
		LangID:   DefaultLangID,
	}
}

// Open reports whether the rescue is open or inactive.
func (r Rescue) Open() bool { return r.Status.Active() }

// Index returns the board index and whether one is assigned.
func (r Rescue) Index() (int, bool) {
	if r.BoardIndex == nil {
		return 0, false
	}
	return *r.BoardIndex, true
}

// WithIndex returns a copy of r placed at the given board index.
func (r Rescue) WithIndex(i int) Rescue {
	c := r.Clone()
	c.BoardIndex = &i
	return c
}

// SameCase reports whether r and o describe the same case: identical
// identifiers, or, when either identifier is still unassigned, an identical
// client name and creation timestamp.
func (r Rescue) SameCase(o Rescue) bool {
	if r.ID != uuid.Nil && o.ID != uuid.Nil {
		return r.ID == o.ID
	}
	return r.Client == o.Client && r.CreatedAt.Equal(o.CreatedAt)
}

// AddQuote appends a quotation to the quote log.
func (r *Rescue) AddQuote(q Quotation) {
	r.Quotes = append(r.Quotes, q)
}

// Clone returns a deep copy so the board never shares slices or pointers
// with its callers.
func (r Rescue) Clone() Rescue {
	c := r
	c.Quotes = slices.Clone(r.Quotes)
	c.UnidentifiedRats = slices.Clone(r.UnidentifiedRats)
	c.Rats = slices.Clone(r.Rats)
	if r.Outcome != nil {
		o := *r.Outcome
		c.Outcome = &o
	}
	if r.BoardIndex != nil {
		i := *r.BoardIndex
		c.BoardIndex = &i
	}
	c.MarkForDeletion.Reporter = clonePtr(r.MarkForDeletion.Reporter)
	c.MarkForDeletion.Reason = clonePtr(r.MarkForDeletion.Reason)
	return c
}

// Equal reports field-wise equality. Timestamps compare by instant.
func (r Rescue) Equal(o Rescue) bool {
	return r.ID == o.ID &&
		r.Client == o.Client &&
		r.System == o.System &&
		r.IRCNick == o.IRCNick &&
		r.Title == o.Title &&
		r.CodeRed == o.CodeRed &&
		r.Status == o.Status &&
		ptrEqual(r.Outcome, o.Outcome) &&
		r.Platform == o.Platform &&
		r.LangID == o.LangID &&
		r.CreatedAt.Equal(o.CreatedAt) &&
		r.UpdatedAt.Equal(o.UpdatedAt) &&
		slices.EqualFunc(r.Quotes, o.Quotes, Quotation.Equal) &&
		slices.Equal(r.UnidentifiedRats, o.UnidentifiedRats) &&
		slices.Equal(r.Rats, o.Rats) &&
		r.FirstLimpet == o.FirstLimpet &&
		r.MarkForDeletion.Equal(o.MarkForDeletion) &&
		r.HasEpic == o.HasEpic &&
		ptrEqual(r.BoardIndex, o.BoardIndex)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
