package instrument

import (
	"errors"
	"fmt"

	"github.com/dop251/goja/parser"
)

// ParseError is returned when a snippet fails to parse. Line and Column are
// 1-based.
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// newParseError converts the goja parser's error into a ParseError carrying
// the first reported position.
func newParseError(file string, err error) *ParseError {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &ParseError{
			File:    file,
			Line:    list[0].Position.Line,
			Column:  list[0].Position.Column,
			Message: list[0].Message,
		}
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return &ParseError{
			File:    file,
			Line:    single.Position.Line,
			Column:  single.Position.Column,
			Message: single.Message,
		}
	}
	return &ParseError{File: file, Line: 1, Column: 1, Message: err.Error()}
}
