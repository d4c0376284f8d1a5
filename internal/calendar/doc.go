// Package calendar writes extracted events to Google Calendar.
//
// Client is a thin wrapper over the Calendar v3 API that inserts a single
// event. Publisher turns a batch of events.Record values into insert calls:
// records are processed sequentially in input order, a failure on one record
// does not affect the others, and Publish always returns one PublishResult
// per record.
//
// Example usage:
//
//	client, err := calendar.NewClient(ctx, tokenSource, metrics)
//	if err != nil {
//	    return err
//	}
//	results := calendar.NewPublisher(client).Publish(ctx, records, "America/Toronto")
//	for _, r := range results {
//	    if !r.OK() {
//	        log.Printf("%s: %v", r.Summary, r.Err)
//	    }
//	}
package calendar
