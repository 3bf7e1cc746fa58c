package notifications

import "fmt"

// Each named event maps to one fixed (type, title, message template) triple.
// Builders take already-resolved display strings; looking names up is the
// caller's business.

func TaskAssigned(actorName, taskTitle, projectID, taskID, actorID string) Draft {
	return Draft{
		Type:      TypeTaskAssigned,
		Title:     "New task assignment",
		Message:   fmt.Sprintf("%s assigned you the task %q", actorName, taskTitle),
		ProjectID: projectID,
		TaskID:    taskID,
		ActorID:   actorID,
	}
}

func TaskCompleted(actorName, taskTitle, projectID, taskID, actorID string) Draft {
	return Draft{
		Type:      TypeTaskCompleted,
		Title:     "Task completed",
		Message:   fmt.Sprintf("%s marked %q as done", actorName, taskTitle),
		ProjectID: projectID,
		TaskID:    taskID,
		ActorID:   actorID,
	}
}

// TaskStatusChanged takes the raw status for the typed detail and its
// human-readable label for the message.
func TaskStatusChanged(actorName, taskTitle, newStatus, statusLabel, projectID, taskID, actorID string) Draft {
	return Draft{
		Type:      TypeTaskStatusChanged,
		Title:     "Task status updated",
		Message:   fmt.Sprintf("%s moved %q to %s", actorName, taskTitle, statusLabel),
		ProjectID: projectID,
		TaskID:    taskID,
		ActorID:   actorID,
		Detail:    Detail{NewStatus: newStatus},
	}
}

func ProjectReadyForSubmission(projectTitle, projectID string) Draft {
	return Draft{
		Type:      TypeProjectReadyForSubmission,
		Title:     "Project ready for submission",
		Message:   fmt.Sprintf("All tasks in %q are done. The project is ready for submission.", projectTitle),
		ProjectID: projectID,
	}
}

func TaskDueToday(taskTitle, projectID, taskID string) Draft {
	return Draft{
		Type:      TypeTaskDueApproaching,
		Title:     "Task due today",
		Message:   fmt.Sprintf("%q is due today", taskTitle),
		ProjectID: projectID,
		TaskID:    taskID,
		Detail:    Detail{DueToday: true},
	}
}

func TaskDueTomorrow(taskTitle, projectID, taskID string) Draft {
	return Draft{
		Type:      TypeTaskDueApproaching,
		Title:     "Task due tomorrow",
		Message:   fmt.Sprintf("%q is due tomorrow", taskTitle),
		ProjectID: projectID,
		TaskID:    taskID,
	}
}

func TaskOverdue(taskTitle, projectID, taskID string) Draft {
	return Draft{
		Type:      TypeTaskOverdue,
		Title:     "Task overdue",
		Message:   fmt.Sprintf("%q is past its due date", taskTitle),
		ProjectID: projectID,
		TaskID:    taskID,
	}
}

func ProjectDeadlineApproaching(projectTitle, projectID string) Draft {
	return Draft{
		Type:      TypeProjectDeadlineApproaching,
		Title:     "Project deadline approaching",
		Message:   fmt.Sprintf("%q is due in 3 days", projectTitle),
		ProjectID: projectID,
	}
}

func InviteReceived(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeInviteReceived,
		Title:     "Project invitation",
		Message:   fmt.Sprintf("%s invited you to join %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func InviteAccepted(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeInviteAccepted,
		Title:     "Invitation accepted",
		Message:   fmt.Sprintf("%s accepted the invitation to %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func InviteDeclined(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeInviteDeclined,
		Title:     "Invitation declined",
		Message:   fmt.Sprintf("%s declined the invitation to %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func MemberJoined(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeMemberJoined,
		Title:     "New team member",
		Message:   fmt.Sprintf("%s joined %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func MemberLeft(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeMemberLeft,
		Title:     "Member left",
		Message:   fmt.Sprintf("%s left %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func MemberRemoved(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeMemberRemoved,
		Title:     "Member removed",
		Message:   fmt.Sprintf("%s was removed from %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func ProjectCompleted(projectTitle, projectID string) Draft {
	return Draft{
		Type:      TypeProjectCompleted,
		Title:     "Project completed",
		Message:   fmt.Sprintf("%q has been marked as completed", projectTitle),
		ProjectID: projectID,
	}
}

func ProjectGraded(projectTitle, grade, projectID string) Draft {
	return Draft{
		Type:      TypeProjectGraded,
		Title:     "Project graded",
		Message:   fmt.Sprintf("%q received the grade %s", projectTitle, grade),
		ProjectID: projectID,
		Detail:    Detail{Grade: grade},
	}
}

func SubmissionReceived(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeSubmissionReceived,
		Title:     "Submission received",
		Message:   fmt.Sprintf("%s submitted files for %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}

func SubmissionReviewed(projectTitle, projectID string) Draft {
	return Draft{
		Type:      TypeSubmissionReviewed,
		Title:     "Submission reviewed",
		Message:   fmt.Sprintf("Your submission for %q has been reviewed", projectTitle),
		ProjectID: projectID,
	}
}

func AnnouncementPosted(actorName, projectTitle, projectID, actorID string) Draft {
	return Draft{
		Type:      TypeAnnouncementPosted,
		Title:     "New announcement",
		Message:   fmt.Sprintf("%s posted an announcement in %q", actorName, projectTitle),
		ProjectID: projectID,
		ActorID:   actorID,
	}
}
