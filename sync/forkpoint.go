package sync

import "nodestorage/vcs/store"

// ForkPoint returns the most recent version on branch shared by localLog
// and remoteLog: the log tree's LCA restricted to entries present on both
// sides, per SPEC_FULL's glossary addition. Replicated log entries
// keep their originating id across push/pull (spec §4.8 step 3 replicates
// "log entry" verbatim), so shared ancestry is detected by id membership
// rather than by re-deriving a tree LCA on each side independently.
func ForkPoint(localLog, remoteLog []store.LogEntry, branch string) (store.Version, bool) {
	localByID := map[string]store.LogEntry{}
	for _, e := range localLog {
		localByID[e.ID] = e
	}
	remoteByID := map[string]struct{}{}
	for _, e := range remoteLog {
		remoteByID[e.ID] = struct{}{}
	}

	var tip *store.LogEntry
	for i := range localLog {
		if localLog[i].Branch != branch {
			continue
		}
		if tip == nil || localLog[i].N > tip.N {
			tip = &localLog[i]
		}
	}
	if tip == nil {
		return store.Version{}, false
	}

	cur := tip
	for {
		if _, shared := remoteByID[cur.ID]; shared {
			return cur.Version(), true
		}
		if cur.PrevID == nil {
			return store.Version{}, false
		}
		parent, ok := localByID[*cur.PrevID]
		if !ok {
			return store.Version{}, false
		}
		cur = &parent
	}
}
