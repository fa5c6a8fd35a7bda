// Package textutil holds small string helpers shared by the submission store
// and the upload gateway: path segment checks and contact list parsing.
package textutil
