// Package handlers provides HTTP request handlers for the media
// catalog API.
//
// It includes handlers for:
//   - Faceted search, similarity search, and autocomplete
//   - Media upload, retrieval, patching, and file serving
//   - Collection and creator management
//   - Tag listing and the duplicates report
//   - Health checks and Prometheus metrics
package handlers
