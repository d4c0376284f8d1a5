package google

import calendar "google.golang.org/api/calendar/v3"

// DefaultOAuthScopes are the scopes requested during authorization.
// Creating events only needs the events scope, not full calendar access.
var DefaultOAuthScopes = []string{
	calendar.CalendarEventsScope,
}
