// Package submission owns the on-disk submission tree:
//
//	<submissions_dir>/<track>/<team>/<instance>/metadata.json
//	<submissions_dir>/<track>/<team>/<instance>/images/...
//
// An instance is named after its upload time. Its metadata file doubles as the
// readiness marker: the gateway writes it only after the archive has been
// extracted, so the worker never scores a half-written folder.
package submission
