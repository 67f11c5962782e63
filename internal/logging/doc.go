// Package logging sets up structured JSON logging with size-based rotation.
//
// Logs go to ~/.xref/logs/xref.log. The CLI tees them to stderr unless it is
// serving MCP over stdio, where stdout and stderr must stay clean.
package logging
