package engine

// FailureKind classifies why one frontier entry's crawl failed, so
// the engine can decide whether the frontier should retry it.
type FailureKind int

// The seven failure kinds a crawl attempt can end in.
const (
	FailureNone FailureKind = iota
	FailureCanonicalisation
	FailurePolicy
	FailureTransientNetwork
	FailureBlocking
	FailureProtocol
	FailureExtraction
	FailureStorage
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureCanonicalisation:
		return "canonicalisation"
	case FailurePolicy:
		return "policy"
	case FailureTransientNetwork:
		return "transient_network"
	case FailureBlocking:
		return "blocking"
	case FailureProtocol:
		return "protocol"
	case FailureExtraction:
		return "extraction"
	case FailureStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Retryable reports whether the frontier should give this kind of
// failure another attempt (subject to its own retry budget).
// Policy failures (robots disallow) and protocol failures (4xx other
// than 429) are permanent; everything network- or timing-related is
// worth retrying.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransientNetwork, FailureBlocking, FailureStorage:
		return true
	default:
		return false
	}
}

// CrawlError wraps an underlying error with the FailureKind the
// engine classified it as.
type CrawlError struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (e *CrawlError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.URL
	}
	return e.Kind.String() + ": " + e.URL + ": " + e.Err.Error()
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}
