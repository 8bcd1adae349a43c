package task

import "sort"

// ancestryLimit bounds ancestry walks so a corrupted tree cannot loop forever.
func (s *Service) ancestryLimit() int {
	return len(s.tasks) + 1
}

// depthLocked returns how many levels below ancestorWorkspaceID the task
// sits, or 0 when it is not a descendant. A task spawned directly by the
// workspace has depth 1.
func (s *Service) depthLocked(ancestorWorkspaceID, taskID string) int {
	e, ok := s.tasks[taskID]
	if !ok || ancestorWorkspaceID == "" {
		return 0
	}
	ws := e.task.ParentWorkspaceID
	for depth := 1; depth <= s.ancestryLimit(); depth++ {
		if ws == ancestorWorkspaceID {
			return depth
		}
		parent, ok := s.tasks[ws]
		if !ok {
			return 0
		}
		ws = parent.task.ParentWorkspaceID
	}
	return 0
}

func (s *Service) isDescendantLocked(ancestorWorkspaceID, taskID string) bool {
	return s.depthLocked(ancestorWorkspaceID, taskID) > 0
}

// IsDescendantTask reports whether taskID was spawned, transitively, from
// ancestorWorkspaceID. It reads the live tree.
func (s *Service) IsDescendantTask(ancestorWorkspaceID, taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isDescendantLocked(ancestorWorkspaceID, taskID)
}

// FilterDescendantTaskIDs keeps the ids that are descendants of
// ancestorWorkspaceID, in input order. Ancestry answers are memoised per
// workspace so each workspace on a chain is walked once per call.
func (s *Service) FilterDescendantTaskIDs(ancestorWorkspaceID string, taskIDs []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memo := map[string]bool{ancestorWorkspaceID: true}
	out := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		e, ok := s.tasks[id]
		if !ok || ancestorWorkspaceID == "" {
			continue
		}
		if s.reachesLocked(e.task.ParentWorkspaceID, memo) {
			out = append(out, id)
		}
	}
	return out
}

// reachesLocked reports whether ws is the memo's ancestor or below it,
// recording the answer for every workspace on the walked path.
func (s *Service) reachesLocked(ws string, memo map[string]bool) bool {
	var path []string
	result := false
	for len(path) <= s.ancestryLimit() {
		if v, ok := memo[ws]; ok {
			result = v
			break
		}
		path = append(path, ws)
		parent, ok := s.tasks[ws]
		if !ok {
			break
		}
		ws = parent.task.ParentWorkspaceID
	}
	for _, w := range path {
		memo[w] = result
	}
	return result
}

// ListActiveDescendantTaskIDs returns the queued, running and
// awaiting_report descendants of workspaceID, oldest first.
func (s *Service) ListActiveDescendantTaskIDs(workspaceID string) []string {
	views := s.ListDescendantTasks(workspaceID, ActiveStatuses)
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

// ListDescendantTasks lists descendants of workspaceID whose status is in
// statuses, oldest first. No statuses means every status.
func (s *Service) ListDescendantTasks(workspaceID string, statuses []Status) []*TaskView {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	var out []*TaskView
	for id, e := range s.tasks {
		if len(want) > 0 && !want[e.task.Status] {
			continue
		}
		depth := s.depthLocked(workspaceID, id)
		if depth == 0 {
			continue
		}
		out = append(out, &TaskView{
			ID:                e.task.ID,
			ParentWorkspaceID: e.task.ParentWorkspaceID,
			Status:            e.task.Status,
			Title:             e.task.Title,
			AgentType:         e.task.AgentType,
			ReportTitle:       e.task.ReportTitle,
			Error:             e.task.Error,
			Depth:             depth,
			CreatedAt:         e.task.CreatedAt,
			UpdatedAt:         e.task.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// subtreeLocked returns taskID and every task below it, children before
// parents, with taskID last. Unknown ids yield nil.
func (s *Service) subtreeLocked(taskID string) []string {
	if _, ok := s.tasks[taskID]; !ok {
		return nil
	}
	children := make(map[string][]*entry)
	for _, e := range s.tasks {
		children[e.task.ParentWorkspaceID] = append(children[e.task.ParentWorkspaceID], e)
	}
	for _, c := range children {
		sort.Slice(c, func(i, j int) bool {
			if !c[i].task.CreatedAt.Equal(c[j].task.CreatedAt) {
				return c[i].task.CreatedAt.Before(c[j].task.CreatedAt)
			}
			return c[i].task.ID < c[j].task.ID
		})
	}

	var out []string
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, c := range children[id] {
			walk(c.task.ID)
		}
		out = append(out, id)
	}
	walk(taskID)
	return out
}
