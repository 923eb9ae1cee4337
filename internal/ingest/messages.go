package ingest

const (
	msgGreeting = "Namaste! 🙏 I can set reminders for you. Try saying 'Remind me tomorrow at 9am'."
	msgUsage    = "Commands:\n" +
		"/timezone <IANA name> - set your timezone, e.g. /timezone Asia/Kolkata\n" +
		"/list - show your upcoming reminders\n" +
		"/help - show this message\n\n" +
		"Or just write: 'Remind me to drink water every day at 9am'."

	msgNoTime        = "I couldn't catch the time properly. Please try again (e.g., 'Remind me tomorrow at 9am')."
	msgNeedTimezone  = "Please set your timezone first, e.g. /timezone Asia/Kolkata"
	msgBadZone       = "I don't know the timezone %q. Use an IANA name such as Asia/Kolkata or Europe/London."
	msgZoneSet       = "✅ Timezone set to %s."
	msgZoneCurrent   = "Your timezone is %s. Change it with /timezone <IANA name>."
	msgZoneUnset     = "You have not set a timezone yet. Use /timezone <IANA name>, e.g. /timezone Asia/Kolkata"
	msgStoredZoneBad = "Your saved timezone is no longer valid. Please set it again with /timezone <IANA name>."
	msgBadTime       = "That time does not exist on that day in %s (daylight saving change?). Please pick another time."
	msgBadRecurrence = "I couldn't understand how often to repeat that. Try 'every day', 'every week' or 'every 3 days'."
	msgPast          = "That time has already passed today. Say 'tomorrow' to schedule it for the next day."
	msgConfirm       = "✅ Reminder set for %s at %s (%s)%s."
	msgNoPending     = "You have no upcoming reminders."
	msgError         = "Sorry, I encountered an error."
)
