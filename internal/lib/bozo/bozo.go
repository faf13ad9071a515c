// Package bozo decides what happens to feeds that are not well-formed.
package bozo

import (
	"context"

	"feedplatform/internal/addins"
)

// Reject stops processing malformed feeds. Without it their recoverable
// entries are processed as usual.
type Reject struct{}

// NewReject returns a Reject.
func NewReject() *Reject { return &Reject{} }

func (r *Reject) Name() string { return "reject_bozo" }

func (r *Reject) OnAfterParse(_ context.Context, args *addins.AfterParseArgs) (bool, error) {
	if !args.Result.Malformed {
		return false, nil
	}
	args.Logger(r).Warn("malformed feed rejected", "feed_id", args.Feed.ID, "reason", args.Result.MalformedReason)
	return true, nil
}
