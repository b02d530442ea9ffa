package fanout

// Reason explains why a recipient did not get the file.
type Reason int

// Failure reasons. ReasonNone marks success.
const (
	ReasonNone Reason = iota
	ReasonNotAuthenticated
	ReasonCredentialRevoked
	ReasonRateLimited
	ReasonTimeout
	ReasonRefreshFailed
	ReasonUploadFailed
	ReasonAbandoned
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNotAuthenticated:
		return "not_authenticated"
	case ReasonCredentialRevoked:
		return "credential_revoked"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonTimeout:
		return "timeout"
	case ReasonRefreshFailed:
		return "refresh_failed"
	case ReasonUploadFailed:
		return "upload_failed"
	case ReasonAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// NeedsConsent reports whether the recipient has to connect their storage
// (again) before they can receive files.
func (r Reason) NeedsConsent() bool {
	return r == ReasonNotAuthenticated || r == ReasonCredentialRevoked
}

// Outcome is the result of delivering to one recipient. Remote is set when
// Succeeded; Reason and Err otherwise.
type Outcome struct {
	UserID    string
	Succeeded bool
	Remote    *RemoteFile
	Reason    Reason
	Err       error
}

// Summary counts a fanout's outcomes.
type Summary struct {
	Total        int
	Succeeded    int
	NeedConsent  int
	OtherFailure int
}

// Summarize aggregates outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}

	for _, o := range outcomes {
		switch {
		case o.Succeeded:
			s.Succeeded++
		case o.Reason.NeedsConsent():
			s.NeedConsent++
		default:
			s.OtherFailure++
		}
	}

	return s
}
