package migrate

import (
	"labtopo/internal/domain"
)

// ReconcileOrphans re-associates annotation entries with renamed nodes.
// It only acts on the unambiguous single-rename shape: exactly one node id
// with no matching annotation, and at least one annotation whose id
// matches no node. Candidates sharing the missing id's alphabetic prefix
// are preferred; otherwise the first orphan is taken. Multi-rename batches
// are intentionally left unreconciled. Returns whether ann was changed.
func ReconcileOrphans(nodeIDs []string, ann *domain.Annotations) bool {
	if ann == nil || len(ann.NodeAnnotations) == 0 {
		return false
	}

	live := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		live[id] = true
	}
	annotated := make(map[string]bool, len(ann.NodeAnnotations))
	for i := range ann.NodeAnnotations {
		annotated[ann.NodeAnnotations[i].ID] = true
	}

	var missing []string
	for _, id := range nodeIDs {
		if !annotated[id] {
			missing = append(missing, id)
		}
	}
	var orphans []int
	for i := range ann.NodeAnnotations {
		if !live[ann.NodeAnnotations[i].ID] {
			orphans = append(orphans, i)
		}
	}

	if len(missing) != 1 || len(orphans) == 0 {
		return false
	}

	target := missing[0]
	pick := orphans[0]
	prefix := alphaPrefix(target)
	if prefix != "" {
		for _, i := range orphans {
			if alphaPrefix(ann.NodeAnnotations[i].ID) == prefix {
				pick = i
				break
			}
		}
	}

	ann.NodeAnnotations[pick].ID = target
	return true
}

// alphaPrefix returns the leading alphabetic run of an id.
func alphaPrefix(id string) string {
	for i, r := range id {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return id[:i]
		}
	}
	return id
}
