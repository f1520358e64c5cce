package sieveengine

import (
	"fmt"
	"strings"
)

// argument kinds
const (
	argString = iota
	argList
	argNumber
)

type argValue struct {
	kind int
	str  string
	list []string
	num  int
}

type tagArg struct {
	name   string
	value  string
	number int
}

type branch struct {
	test  *test // nil for else
	block []command
}

type command struct {
	name     string
	tags     []tagArg
	args     []argValue
	branches []branch // for if
}

// stringArgs flattens positional string and list arguments.
func (c command) stringArgs() []string {
	var out []string
	for _, a := range c.args {
		switch a.kind {
		case argString:
			out = append(out, a.str)
		case argList:
			out = append(out, a.list...)
		}
	}
	return out
}

type test struct {
	name     string
	tags     []tagArg
	args     []argValue
	subtests []test
}

func (t test) matchType() string {
	for _, tag := range t.tags {
		switch tag.name {
		case "is", "contains", "matches":
			return tag.name
		}
	}
	return "is"
}

func (t test) addressPart() string {
	for _, tag := range t.tags {
		switch tag.name {
		case "all", "localpart", "domain":
			return tag.name
		}
	}
	return "all"
}

// headerNames returns the first positional argument as a list.
func (t test) headerNames() []string {
	if len(t.args) == 0 {
		return nil
	}
	return t.args[0].strings()
}

// namesAndKeys returns the two positional string lists of a header,
// address or envelope test.
func (t test) namesAndKeys() ([]string, []string, error) {
	if len(t.args) != 2 {
		return nil, nil, fmt.Errorf("%s takes a header list and a key list", t.name)
	}
	return t.args[0].strings(), t.args[1].strings(), nil
}

func (a argValue) strings() []string {
	switch a.kind {
	case argString:
		return []string{a.str}
	case argList:
		return a.list
	}
	return nil
}

// token kinds
const (
	tokEOF = iota
	tokIdent
	tokString
	tokNumber
	tokTag
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokSemicolon
	tokComma
)

type token struct {
	kind int
	text string
	num  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}

	ch := l.src[l.pos]
	switch ch {
	case '(':
		l.pos++
		return token{kind: tokLParen}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen}, nil
	case '[':
		l.pos++
		return token{kind: tokLBracket}, nil
	case ']':
		l.pos++
		return token{kind: tokRBracket}, nil
	case '{':
		l.pos++
		return token{kind: tokLBrace}, nil
	case '}':
		l.pos++
		return token{kind: tokRBrace}, nil
	case ';':
		l.pos++
		return token{kind: tokSemicolon}, nil
	case ',':
		l.pos++
		return token{kind: tokComma}, nil
	case '"':
		return l.lexString()
	case ':':
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		if l.pos == start {
			return token{}, fmt.Errorf("bare colon at offset %d", start)
		}
		return token{kind: tokTag, text: strings.ToLower(l.src[start:l.pos])}, nil
	}

	if ch >= '0' && ch <= '9' {
		return l.lexNumber()
	}
	if isIdentChar(ch) {
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: strings.ToLower(l.src[start:l.pos])}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", ch, l.pos)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			l.pos++
		case ch == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case ch == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				l.pos = len(l.src)
				return
			}
			l.pos += end + 4
		default:
			return
		}
	}
}

func (l *lexer) lexString() (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch ch {
		case '"':
			l.pos++
			return token{kind: tokString, text: sb.String()}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, fmt.Errorf("unterminated escape")
			}
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}
	return token{}, fmt.Errorf("unterminated string")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	n := 0
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		n = n*10 + int(l.src[l.pos]-'0')
		l.pos++
	}
	if l.pos < len(l.src) {
		switch l.src[l.pos] | 0x20 {
		case 'k':
			n *= 1024
			l.pos++
		case 'm':
			n *= 1024 * 1024
			l.pos++
		case 'g':
			n *= 1024 * 1024 * 1024
			l.pos++
		}
	}
	if l.pos == start {
		return token{}, fmt.Errorf("invalid number at offset %d", start)
	}
	return token{kind: tokNumber, num: n}, nil
}

func isIdentChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' ||
		ch >= '0' && ch <= '9' || ch == '_' || ch == '-'
}

// valueTags consume the token after them as the tag's value.
var valueTags = map[string]bool{
	"days":       true,
	"subject":    true,
	"from":       true,
	"over":       true,
	"under":      true,
	"comparator": true,
}

type parser struct {
	lex  *lexer
	tok  token
	peek *token
}

func parse(src string) (*Script, error) {
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var commands []command
	for p.tok.kind != tokEOF {
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return &Script{commands: commands}, nil
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind int, what string) error {
	if p.tok.kind != kind {
		return fmt.Errorf("expected %s", what)
	}
	return p.advance()
}

func (p *parser) parseCommand() (command, error) {
	if p.tok.kind != tokIdent {
		return command{}, fmt.Errorf("expected command name")
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return command{}, err
	}

	if name == "if" {
		return p.parseIf()
	}
	if name == "elsif" || name == "else" {
		return command{}, fmt.Errorf("%s without a preceding if", name)
	}

	cmd := command{name: name}
	if err := p.parseArguments(&cmd.tags, &cmd.args); err != nil {
		return command{}, err
	}
	if err := p.expect(tokSemicolon, "';'"); err != nil {
		return command{}, fmt.Errorf("after %s: %w", name, err)
	}
	return cmd, nil
}

func (p *parser) parseIf() (command, error) {
	cmd := command{name: "if"}

	for {
		t, err := p.parseTest()
		if err != nil {
			return command{}, err
		}
		block, err := p.parseBlock()
		if err != nil {
			return command{}, err
		}
		cmd.branches = append(cmd.branches, branch{test: &t, block: block})

		if p.tok.kind == tokIdent && p.tok.text == "elsif" {
			if err := p.advance(); err != nil {
				return command{}, err
			}
			continue
		}
		break
	}

	if p.tok.kind == tokIdent && p.tok.text == "else" {
		if err := p.advance(); err != nil {
			return command{}, err
		}
		block, err := p.parseBlock()
		if err != nil {
			return command{}, err
		}
		cmd.branches = append(cmd.branches, branch{block: block})
	}

	return cmd, nil
}

func (p *parser) parseBlock() ([]command, error) {
	if err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var commands []command
	for p.tok.kind != tokRBrace {
		if p.tok.kind == tokEOF {
			return nil, fmt.Errorf("unterminated block")
		}
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, p.advance()
}

func (p *parser) parseTest() (test, error) {
	if p.tok.kind != tokIdent {
		return test{}, fmt.Errorf("expected test name")
	}
	t := test{name: p.tok.text}
	if err := p.advance(); err != nil {
		return test{}, err
	}

	switch t.name {
	case "allof", "anyof":
		if err := p.expect(tokLParen, "'('"); err != nil {
			return test{}, err
		}
		for {
			sub, err := p.parseTest()
			if err != nil {
				return test{}, err
			}
			t.subtests = append(t.subtests, sub)
			if p.tok.kind == tokComma {
				if err := p.advance(); err != nil {
					return test{}, err
				}
				continue
			}
			break
		}
		return t, p.expect(tokRParen, "')'")

	case "not":
		sub, err := p.parseTest()
		if err != nil {
			return test{}, err
		}
		t.subtests = []test{sub}
		return t, nil
	}

	if err := p.parseArguments(&t.tags, &t.args); err != nil {
		return test{}, err
	}
	return t, nil
}

// parseArguments consumes tags, strings, numbers and string lists
// until a structural token ends the argument run.
func (p *parser) parseArguments(tags *[]tagArg, args *[]argValue) error {
	for {
		switch p.tok.kind {
		case tokTag:
			tag := tagArg{name: p.tok.text}
			if err := p.advance(); err != nil {
				return err
			}
			if valueTags[tag.name] {
				switch p.tok.kind {
				case tokNumber:
					tag.number = p.tok.num
				case tokString:
					tag.value = p.tok.text
				default:
					return fmt.Errorf(":%s requires a value", tag.name)
				}
				if err := p.advance(); err != nil {
					return err
				}
			}
			*tags = append(*tags, tag)

		case tokString:
			*args = append(*args, argValue{kind: argString, str: p.tok.text})
			if err := p.advance(); err != nil {
				return err
			}

		case tokNumber:
			*args = append(*args, argValue{kind: argNumber, num: p.tok.num})
			if err := p.advance(); err != nil {
				return err
			}

		case tokLBracket:
			list, err := p.parseStringList()
			if err != nil {
				return err
			}
			*args = append(*args, argValue{kind: argList, list: list})

		default:
			return nil
		}
	}
}

func (p *parser) parseStringList() ([]string, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	var list []string
	for {
		if p.tok.kind != tokString {
			return nil, fmt.Errorf("expected string in list")
		}
		list = append(list, p.tok.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.tok.kind != tokRBracket {
		return nil, fmt.Errorf("expected ']'")
	}
	return list, p.advance()
}
