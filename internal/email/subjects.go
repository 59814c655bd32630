package email

const (
	subjectLeadErroredFmt          = "Lead pipeline error: %s"
	subjectLeadFollowupFmt         = "Manual scheduling needed: %s"
	subjectLeadFollowupReminderFmt = "Reminder: %s still needs scheduling"
)
