// Package process implements the finalization message processor: it
// validates one message against a finalization context and, on success,
// derives the vote weight the message carries.
package process
