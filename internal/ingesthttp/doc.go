// Package ingesthttp is the HTTP surface of the archive ingestion service.
//
// Uploads arrive as multipart/form-data with the archive in the "file"
// field and are streamed straight into the ingest pipeline without
// buffering the form. Rejected uploads answer 4xx, server side failures
// 5xx, both with a JSON body carrying a machine readable reason.
package ingesthttp
