package projects

// Recipients computes who gets notified for an event on the project: the team
// leader plus every accepted member, deduplicated, minus the acting user.
// Pending and declined invitees never receive anything. The function is pure
// and is called fresh per event, since membership can change between events.
// Pass an empty excludeUserID to address the whole team.
func Recipients(p Project, excludeUserID string) []string {
	seen := make(map[string]bool, len(p.Members)+1)
	out := make([]string, 0, len(p.Members)+1)

	add := func(userID string) {
		if userID == "" || userID == excludeUserID || seen[userID] {
			return
		}
		seen[userID] = true
		out = append(out, userID)
	}

	add(p.LeaderID)
	for _, m := range p.Members {
		if m.InviteStatus != InviteAccepted {
			continue
		}
		add(m.UserID)
	}
	return out
}
