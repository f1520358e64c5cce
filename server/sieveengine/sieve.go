// Package sieveengine evaluates a subset of Sieve (RFC 5228) filtering
// scripts at delivery time: header, address, envelope and size tests
// with the is/contains/matches match types, plus the fileinto,
// redirect and vacation actions.
package sieveengine

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionKeep     Action = "keep"
	ActionDiscard  Action = "discard"
	ActionFileInto Action = "fileinto"
	ActionRedirect Action = "redirect"
	ActionVacation Action = "vacation"
)

type Result struct {
	Action  Action
	Mailbox string // used for fileinto

	RedirectTo string // used for redirect

	VacationDays int    // used for vacation, 0 means the default window
	VacationSubj string // used for vacation
	VacationFrom string // used for vacation
	VacationMsg  string // used for vacation
}

type Context struct {
	EnvelopeFrom string
	EnvelopeTo   string
	Header       map[string][]string
	Body         string
}

type Executor interface {
	Evaluate(ctx Context) (Result, error)
}

// supportedExtensions is what require may name.
var supportedExtensions = map[string]bool{
	"fileinto": true,
	"envelope": true,
	"vacation": true,
}

// Script is a parsed sieve program, reusable across messages.
type Script struct {
	commands []command
}

// NewScript parses a sieve script.
func NewScript(src string) (*Script, error) {
	return parse(src)
}

// Evaluate runs the script against one message. The zero Result action
// is the implicit keep.
func (s *Script) Evaluate(ctx Context) (Result, error) {
	e := &evaluator{ctx: ctx, result: Result{Action: ActionKeep}}
	if err := e.run(s.commands); err != nil {
		return Result{Action: ActionKeep}, err
	}
	return e.result, nil
}

type evaluator struct {
	ctx     Context
	result  Result
	stopped bool
}

func (e *evaluator) run(commands []command) error {
	for _, cmd := range commands {
		if e.stopped {
			return nil
		}
		if err := e.exec(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) exec(cmd command) error {
	switch cmd.name {
	case "require":
		for _, ext := range cmd.stringArgs() {
			if !supportedExtensions[ext] {
				return fmt.Errorf("unsupported extension %q", ext)
			}
		}
		return nil

	case "if":
		return e.execConditional(cmd)

	case "stop":
		e.stopped = true
		return nil

	case "keep":
		e.result = Result{Action: ActionKeep}
		return nil

	case "discard":
		e.result = Result{Action: ActionDiscard}
		return nil

	case "fileinto":
		args := cmd.stringArgs()
		if len(args) != 1 {
			return fmt.Errorf("fileinto takes exactly one mailbox")
		}
		e.result = Result{Action: ActionFileInto, Mailbox: args[0]}
		return nil

	case "redirect":
		args := cmd.stringArgs()
		if len(args) != 1 {
			return fmt.Errorf("redirect takes exactly one address")
		}
		e.result = Result{Action: ActionRedirect, RedirectTo: args[0]}
		return nil

	case "vacation":
		return e.execVacation(cmd)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func (e *evaluator) execConditional(cmd command) error {
	for _, branch := range cmd.branches {
		if branch.test == nil {
			// else branch
			return e.run(branch.block)
		}
		match, err := e.eval(*branch.test)
		if err != nil {
			return err
		}
		if match {
			return e.run(branch.block)
		}
	}
	return nil
}

func (e *evaluator) execVacation(cmd command) error {
	result := Result{Action: ActionVacation}
	for _, tag := range cmd.tags {
		switch tag.name {
		case "days":
			result.VacationDays = tag.number
		case "subject":
			result.VacationSubj = tag.value
		case "from":
			result.VacationFrom = tag.value
		default:
			return fmt.Errorf("unsupported vacation tag :%s", tag.name)
		}
	}
	args := cmd.stringArgs()
	if len(args) != 1 {
		return fmt.Errorf("vacation takes exactly one reason string")
	}
	result.VacationMsg = args[0]
	e.result = result
	return nil
}

func (e *evaluator) eval(t test) (bool, error) {
	switch t.name {
	case "true":
		return true, nil
	case "false":
		return false, nil

	case "not":
		if len(t.subtests) != 1 {
			return false, fmt.Errorf("not takes exactly one test")
		}
		match, err := e.eval(t.subtests[0])
		return !match, err

	case "allof":
		for _, sub := range t.subtests {
			match, err := e.eval(sub)
			if err != nil || !match {
				return false, err
			}
		}
		return true, nil

	case "anyof":
		for _, sub := range t.subtests {
			match, err := e.eval(sub)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
		return false, nil

	case "exists":
		for _, name := range t.headerNames() {
			if len(e.headerValues(name)) == 0 {
				return false, nil
			}
		}
		return true, nil

	case "header":
		return e.evalHeader(t)

	case "address":
		return e.evalAddress(t)

	case "envelope":
		return e.evalEnvelope(t)

	case "size":
		return e.evalSize(t)
	}
	return false, fmt.Errorf("unknown test %q", t.name)
}

func (e *evaluator) evalHeader(t test) (bool, error) {
	names, keys, err := t.namesAndKeys()
	if err != nil {
		return false, err
	}
	matcher := t.matchType()
	for _, name := range names {
		for _, value := range e.headerValues(name) {
			for _, key := range keys {
				if matchString(matcher, value, key) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (e *evaluator) evalAddress(t test) (bool, error) {
	names, keys, err := t.namesAndKeys()
	if err != nil {
		return false, err
	}
	matcher := t.matchType()
	part := t.addressPart()
	for _, name := range names {
		for _, value := range e.headerValues(name) {
			for _, addr := range extractAddresses(value) {
				candidate := addressPartOf(addr, part)
				for _, key := range keys {
					if matchString(matcher, candidate, key) {
						return true, nil
					}
				}
			}
		}
	}
	return false, nil
}

func (e *evaluator) evalEnvelope(t test) (bool, error) {
	names, keys, err := t.namesAndKeys()
	if err != nil {
		return false, err
	}
	matcher := t.matchType()
	part := t.addressPart()
	for _, name := range names {
		var value string
		switch strings.ToLower(name) {
		case "from":
			value = e.ctx.EnvelopeFrom
		case "to":
			value = e.ctx.EnvelopeTo
		default:
			continue
		}
		candidate := addressPartOf(value, part)
		for _, key := range keys {
			if matchString(matcher, candidate, key) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *evaluator) evalSize(t test) (bool, error) {
	size := len(e.ctx.Body)
	for _, h := range e.ctx.Header {
		for _, v := range h {
			size += len(v)
		}
	}
	for _, tag := range t.tags {
		switch tag.name {
		case "over":
			return size > tag.number, nil
		case "under":
			return size < tag.number, nil
		}
	}
	return false, fmt.Errorf("size requires :over or :under")
}

func (e *evaluator) headerValues(name string) []string {
	for key, values := range e.ctx.Header {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// matchString applies a sieve match type, case-insensitively.
func matchString(matcher, value, key string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	key = strings.ToLower(key)
	switch matcher {
	case "contains":
		return strings.Contains(value, key)
	case "matches":
		return globMatch(key, value)
	default: // is
		return value == key
	}
}

// globMatch implements the :matches wildcards: * for any run, ? for a
// single character.
func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if globMatch(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '?':
		return s != "" && globMatch(pattern[1:], s[1:])
	default:
		return s != "" && s[0] == pattern[0] && globMatch(pattern[1:], s[1:])
	}
}

// extractAddresses pulls bare addresses out of a header value without
// a full RFC 5322 parse; angle-bracket form first, else the raw value.
func extractAddresses(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if open := strings.LastIndex(part, "<"); open >= 0 {
			if close := strings.Index(part[open:], ">"); close > 0 {
				out = append(out, part[open+1:open+close])
				continue
			}
		}
		out = append(out, part)
	}
	return out
}

func addressPartOf(addr, part string) string {
	at := strings.LastIndex(addr, "@")
	switch part {
	case "localpart":
		if at >= 0 {
			return addr[:at]
		}
		return addr
	case "domain":
		if at >= 0 {
			return addr[at+1:]
		}
		return ""
	default: // all
		return addr
	}
}
