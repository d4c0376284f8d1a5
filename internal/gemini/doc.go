// Package gemini turns scheduling instructions into event records using the
// Gemini API.
//
// A Preparer builds the multi-part payload. Attachments are uploaded through
// the Files API and polled every two seconds until the provider reports them
// ACTIVE or FAILED, for at most sixty seconds. Every uploaded file is deleted
// exactly once, on success, failure and cancellation alike.
//
// An Extractor sends the payload with a fixed response schema and system
// instruction, then parses the JSON answer. Empty and malformed answers are
// reported as distinct outcomes with no records rather than as errors.
//
//	client, err := gemini.NewClient(ctx, gemini.Config{})
//	if err != nil {
//		return err
//	}
//	payload, err := gemini.NewPreparer(client.Files).Prepare(ctx, "lunch with Ana tomorrow at noon", "")
//	if err != nil {
//		return err
//	}
//	result, err := gemini.NewExtractor(client.Models).Extract(ctx, payload, "America/Toronto")
package gemini
