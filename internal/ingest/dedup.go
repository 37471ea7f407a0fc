package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/quarrylabs/quarry/internal/metadata"
	"github.com/quarrylabs/quarry/internal/model"
)

// Dedup policies decide what happens when the exact bytes were seen before.
const (
	// PolicySkip ends the ingestion, returning the existing version.
	PolicySkip = "skip"

	// PolicyNewVersion indexes the bytes again as a fresh version of the
	// existing document.
	PolicyNewVersion = "new_version"

	// PolicyContinue resumes the existing version in place, re-running the
	// fan-out. This is the repair path after a partial ingestion.
	PolicyContinue = "continue"
)

// Dedup decision actions.
const (
	DecisionNew        = "new"
	DecisionSkip       = "skip"
	DecisionNewVersion = "new_version"
	DecisionContinue   = "continue"
)

// ErrUnknownPolicy is returned for a policy string outside the known set.
var ErrUnknownPolicy = errors.New("unknown dedup policy")

// Decision is the outcome of the dedup gate.
type Decision struct {
	Action   string
	Existing *model.DocVersion // nil for DecisionNew
}

// versionFinder is the slice of the metadata store the gate needs.
type versionFinder interface {
	FindVersionByFileHash(ctx context.Context, fileSHA256 string) (*model.DocVersion, error)
}

// Decide runs the dedup gate for a file hash under the given policy.
//
// The lookup and the later version insert are not one atomic step: two
// concurrent ingestions of the same bytes can both see "new" and both index.
// That costs duplicate work, not correctness, since every downstream write is
// an idempotent upsert keyed by deterministic IDs.
func Decide(ctx context.Context, finder versionFinder, fileSHA256, policy string) (Decision, error) {
	switch policy {
	case PolicySkip, PolicyNewVersion, PolicyContinue:
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	existing, err := finder.FindVersionByFileHash(ctx, fileSHA256)
	if errors.Is(err, metadata.ErrNotFound) {
		return Decision{Action: DecisionNew}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("dedup lookup: %w", err)
	}

	switch policy {
	case PolicyNewVersion:
		return Decision{Action: DecisionNewVersion, Existing: existing}, nil
	case PolicyContinue:
		if existing.Status == model.StatusIndexed {
			// Nothing to resume; treat a fully indexed duplicate as a skip.
			return Decision{Action: DecisionSkip, Existing: existing}, nil
		}
		return Decision{Action: DecisionContinue, Existing: existing}, nil
	default:
		return Decision{Action: DecisionSkip, Existing: existing}, nil
	}
}
