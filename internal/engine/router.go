package engine

import "qmtbridge/internal/domain"

// Path is the route an order takes to the backend.
type Path int

const (
	// PathDirect sends the order through the asynchronous trade API.
	PathDirect Path = iota
	// PathFile appends the order to the file-order table for the terminal's
	// batch workflow.
	PathFile
)

func (p Path) String() string {
	switch p {
	case PathDirect:
		return "direct"
	case PathFile:
		return "file"
	default:
		return "unknown"
	}
}

// RouteFor picks the submission path for req. Creation and redemption are
// not accepted by the trade API and must go through the file workflow.
func RouteFor(req domain.OrderRequest) Path {
	if req.Kind.IsCreationRedemption() {
		return PathFile
	}
	return PathDirect
}
