package status

import "strings"

// Canonical is the normalized order state used internally, independent of
// the provider's vocabulary
type Canonical string

const (
	Pending    Canonical = "PENDING"
	Processing Canonical = "PROCESSING"
	Completed  Canonical = "COMPLETED"
	Failed     Canonical = "FAILED"
	Cancelled  Canonical = "CANCELLED"
	Expired    Canonical = "EXPIRED"
)

// UnknownDefault is where unrecognized provider statuses land. An unknown
// terminal status is therefore treated as non-terminal; callers count these.
const UnknownDefault = Pending

// All lists every canonical state
var All = []Canonical{Pending, Processing, Completed, Failed, Cancelled, Expired}

// IsTerminal reports whether no further ledger-affecting transition is expected
func (c Canonical) IsTerminal() bool {
	switch c {
	case Completed, Failed, Cancelled, Expired:
		return true
	}
	return false
}

// Valid reports whether c is one of the six canonical states
func (c Canonical) Valid() bool {
	for _, s := range All {
		if c == s {
			return true
		}
	}
	return false
}

func (c Canonical) String() string {
	return string(c)
}

// rank orders the non-terminal states; all terminal states share the top rank
func (c Canonical) rank() int {
	switch c {
	case Pending:
		return 0
	case Processing:
		return 1
	}
	return 2
}

// providerStatuses maps folded provider status strings to canonical states.
// Keys are upper case with '-' and ' ' folded to '_'.
var providerStatuses = map[string]Canonical{
	// payment pending
	"PENDING":                    Pending,
	"NEW":                        Pending,
	"CREATED":                    Pending,
	"INITIATED":                  Pending,
	"AWAITING_PAYMENT":           Pending,
	"AWAITING_PAYMENT_FROM_USER": Pending,
	"PAYMENT_PENDING":            Pending,
	"PENDING_PAYMENT":            Pending,
	"PENDINGPAYMENT":             Pending,
	"WAITING_PAYMENT":            Pending,
	"WAITINGPAYMENT":             Pending,
	"WAITING_FOR_PAYMENT":        Pending,
	// order pending
	"ORDER_PENDING":      Pending,
	"PENDING_ORDER":      Pending,
	"ON_HOLD":            Pending,
	"EXTRA_VERIFICATION": Pending,

	"PROCESSING":                   Processing,
	"IN_PROGRESS":                  Processing,
	"INPROGRESS":                   Processing,
	"ORDER_PROCESSING":             Processing,
	"PAYMENT_RECEIVED":             Processing,
	"PAYMENTRECEIVED":              Processing,
	"PAYMENT_DONE_MARKED_BY_USER":  Processing,
	"PENDING_DELIVERY":             Processing,
	"PENDING_DELIVERY_FROM_VENDOR": Processing,
	"ON_HOLD_PENDING_DELIVERY":     Processing,
	"EXECUTING":                    Processing,
	"SENDING":                      Processing,
	"COIN_TRANSFERRED":             Processing,
	"COINTRANSFERRED":              Processing,

	"COMPLETED":       Completed,
	"COMPLETE":        Completed,
	"DONE":            Completed,
	"SETTLED":         Completed,
	"CONFIRMED":       Completed,
	"SUCCESS":         Completed,
	"SUCCEEDED":       Completed,
	"SUCCESSFUL":      Completed,
	"FILLED":          Completed,
	"FULFILLED":       Completed,
	"ORDER_COMPLETED": Completed,

	"FAILED":         Failed,
	"FAILURE":        Failed,
	"ERROR":          Failed,
	"DECLINED":       Failed,
	"PAYMENT_FAILED": Failed,
	"ORDER_FAILED":   Failed,

	"CANCELLED":      Cancelled,
	"CANCELED":       Cancelled,
	"CANCEL":         Cancelled,
	"USER_CANCELLED": Cancelled,
	"VOIDED":         Cancelled,
	"ABORTED":        Cancelled,
	"REFUNDED":       Cancelled,

	"EXPIRED":         Expired,
	"TIMEOUT":         Expired,
	"TIMED_OUT":       Expired,
	"PAYMENT_EXPIRED": Expired,
	"ORDER_EXPIRED":   Expired,
}

// KnownProviderStatuses returns every provider status key the table accepts
func KnownProviderStatuses() []string {
	keys := make([]string, 0, len(providerStatuses))
	for k := range providerStatuses {
		keys = append(keys, k)
	}
	return keys
}

func fold(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// Lookup maps a provider status to its canonical state. The bool is false
// when the status is not in the table.
func Lookup(raw string) (Canonical, bool) {
	c, ok := providerStatuses[fold(raw)]
	return c, ok
}

// Normalize maps a provider status to its canonical state. It never fails:
// unknown statuses resolve to UnknownDefault.
func Normalize(raw string) Canonical {
	if c, ok := Lookup(raw); ok {
		return c
	}
	return UnknownDefault
}
