package harness

import (
	"fmt"
	"path"
	"strings"

	"github.com/kazz187/taskmux/pkg/cerr"
)

// ValidateProposalWrites allows a planning turn to write only the
// workspace's own harness config.
func ValidateProposalWrites(workspaceName string, touched []string) error {
	allowed := ConfigPath(workspaceName)
	var denied []string
	for _, p := range touched {
		clean := path.Clean(strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./"))
		if clean != allowed {
			denied = append(denied, p)
		}
	}
	if len(denied) == 0 {
		return nil
	}
	err := cerr.NewError(cerr.PermissionDenied,
		fmt.Sprintf("planning may only write %s", allowed), fmt.Errorf("denied writes: %s", strings.Join(denied, ", ")))
	for _, p := range denied {
		err.AddDetailMessageWithCode(p, "harness.proposal_write")
	}
	return err
}
