// Package ingest defines the records and collaborator interfaces shared by the
// API, dispatcher and worker that move events through a stage pipeline.
package ingest
