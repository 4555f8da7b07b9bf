package parsers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"statement-reconciler/internal/models"
	"statement-reconciler/pkg/errors"
	"statement-reconciler/pkg/logger"
)

var (
	sgmlCharsetRe = regexp.MustCompile(`(?im)^\s*CHARSET\s*:\s*([A-Za-z0-9_\-]+)`)
	xmlEncodingRe = regexp.MustCompile(`(?i)<\?xml[^>]*encoding\s*=\s*["']([^"']+)["']`)
	ofxStartRe    = regexp.MustCompile(`(?i)<OFX>`)

	xmlEntities = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
)

// OFXDecoder reads OFX 1.x (SGML) and 2.x (XML) bank and credit card statements
type OFXDecoder struct {
	logger logger.Logger
}

// NewOFXDecoder creates an OFX decoder
func NewOFXDecoder() *OFXDecoder {
	return &OFXDecoder{
		logger: logger.GetGlobalLogger().WithComponent("ofx_decoder"),
	}
}

// Decode implements Decoder. Well-formed files are read with ofxgo. Files it
// rejects, such as ones with an unreadable record or without a signon block,
// go through the tag walker, which skips bad records one by one.
func (d *OFXDecoder) Decode(ctx context.Context, raw []byte) (*Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := decodeText(raw, declaredOFXCharset(raw))
	if err != nil {
		return nil, errors.DecodeError(errors.CodeEncodingError, string(models.FileTypeOFX), err.Error(), err)
	}

	loc := ofxStartRe.FindStringIndex(text)
	if loc == nil {
		return nil, errors.DecodeError(errors.CodeMalformedStatement, string(models.FileTypeOFX), "missing <OFX> root element", nil)
	}

	stmt, err := decodeStrictOFX(text)
	if err != nil {
		d.logger.WithError(err).Debug("Strict OFX parse failed, walking tags")
		stmt = d.walkOFX(text[loc[0]:])
	}

	if len(stmt.Movements) == 0 {
		return nil, errors.DecodeError(errors.CodeNoTransactions, string(models.FileTypeOFX), "", nil).
			WithContext("skipped", len(stmt.Skipped))
	}

	return stmt, nil
}

// decodeStrictOFX reads bank and credit card statement responses with ofxgo
func decodeStrictOFX(text string) (*Statement, error) {
	resp, err := ofxgo.ParseResponse(strings.NewReader(text))
	if err != nil {
		return nil, err
	}

	stmt := &Statement{}
	var lists []*ofxgo.TransactionList
	for _, msg := range resp.Bank {
		if sr, ok := msg.(*ofxgo.StatementResponse); ok {
			if stmt.Meta == nil {
				acct := sr.BankAcctFrom
				stmt.Meta = newBankMeta(string(acct.BankID), string(acct.BranchID), string(acct.AcctID))
			}
			lists = append(lists, sr.BankTranList)
		}
	}
	for _, msg := range resp.CreditCard {
		if sr, ok := msg.(*ofxgo.CCStatementResponse); ok {
			if stmt.Meta == nil {
				stmt.Meta = newBankMeta("", "", string(sr.CCAcctFrom.AcctID))
			}
			lists = append(lists, sr.BankTranList)
		}
	}
	if len(lists) == 0 {
		return nil, fmt.Errorf("no bank or credit card statement in response")
	}

	for _, list := range lists {
		if list == nil {
			continue
		}
		for _, trn := range list.Transactions {
			amount, err := decimal.NewFromString(trn.TrnAmt.FloatString(4))
			if err != nil {
				return nil, fmt.Errorf("transaction %s: %w", trn.FiTID, err)
			}
			posted := trn.DtPosted.Time
			date := time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC)

			description := string(trn.Memo)
			if strings.TrimSpace(description) == "" {
				description = string(trn.Name)
			}
			stmt.Movements = append(stmt.Movements, models.NewStatementMovement(date, cleanDescription(description), amount))
		}
	}
	return stmt, nil
}

// walkOFX reads the body with the tolerant tag walker
func (d *OFXDecoder) walkOFX(body string) *Statement {
	root := parseOFXBody(body)

	stmt := &Statement{Meta: ofxBankMeta(root)}

	for i, trn := range root.findAll("STMTTRN") {
		movement, recErr := ofxMovement(trn, i+1)
		if recErr != nil {
			stmt.Skipped = append(stmt.Skipped, recErr)
			d.logger.WithField("record", i+1).WithError(recErr).Warn("Skipping unreadable OFX transaction")
			continue
		}
		stmt.Movements = append(stmt.Movements, movement)
	}
	return stmt
}

// declaredOFXCharset reads the charset from the ASCII header block, before
// the body is decoded.
func declaredOFXCharset(raw []byte) string {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := xmlEncodingRe.FindSubmatch(head); m != nil {
		return string(m[1])
	}
	if m := sgmlCharsetRe.FindSubmatch(head); m != nil {
		return string(m[1])
	}
	return ""
}

func ofxBankMeta(root *ofxNode) *models.BankMeta {
	acct := root.first("BANKACCTFROM")
	if acct == nil {
		acct = root.first("CCACCTFROM")
	}
	if acct == nil {
		return nil
	}

	return newBankMeta(acct.field("BANKID"), acct.field("BRANCHID"), acct.field("ACCTID"))
}

func newBankMeta(bankID, branch, account string) *models.BankMeta {
	meta := &models.BankMeta{
		BankID:        strings.TrimSpace(bankID),
		BranchNumber:  strings.TrimSpace(branch),
		AccountNumber: strings.TrimSpace(account),
	}
	if meta.IsEmpty() {
		return nil
	}
	return meta
}

func ofxMovement(trn *ofxNode, index int) (*models.StatementMovement, *errors.RecordError) {
	source := string(models.FileTypeOFX)

	posted := trn.field("DTPOSTED")
	date, err := parseOFXDate(posted)
	if err != nil {
		return nil, errors.InvalidRecordDate(source, index, "DTPOSTED", posted)
	}

	rawAmount := trn.field("TRNAMT")
	amount, err := models.ParseDecimalFromString(strings.TrimPrefix(strings.TrimSpace(rawAmount), "+"))
	if err != nil {
		return nil, errors.InvalidRecordAmount(source, index, "TRNAMT", rawAmount)
	}

	description := trn.field("MEMO")
	if strings.TrimSpace(description) == "" {
		description = trn.field("NAME")
	}

	return models.NewStatementMovement(date, cleanDescription(description), amount), nil
}

// parseOFXDate reads the calendar date of an OFX datetime
// (YYYYMMDD[hhmmss[.xxx]][[±h[.mm]:TZ]]). Only the date as written is kept.
func parseOFXDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return time.Time{}, &time.ParseError{Layout: "20060102", Value: s, Message: ": too short"}
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// ofxNode is one aggregate of an OFX document. Leaf elements are kept as
// fields; the first occurrence of a field wins.
type ofxNode struct {
	name     string
	fields   map[string]string
	children []*ofxNode
}

func newOFXNode(name string) *ofxNode {
	return &ofxNode{name: name, fields: make(map[string]string)}
}

// field returns a leaf value. SGML files may leave an empty leaf unclosed,
// which nests the following leaves under it, so descendants are searched
// when the field is not found directly.
func (n *ofxNode) field(name string) string {
	if v, ok := n.fields[name]; ok {
		return v
	}
	for _, c := range n.children {
		if v := c.field(name); v != "" {
			return v
		}
	}
	return ""
}

func (n *ofxNode) first(name string) *ofxNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.first(name); found != nil {
			return found
		}
	}
	return nil
}

func (n *ofxNode) findAll(name string) []*ofxNode {
	var out []*ofxNode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// parseOFXBody builds the aggregate tree. An element followed by text is a
// leaf, whether or not it is closed; an element followed directly by another
// tag opens an aggregate. A closing tag pops back to the matching aggregate
// and is ignored when no open aggregate matches.
func parseOFXBody(body string) *ofxNode {
	root := newOFXNode("")
	stack := []*ofxNode{root}

	pos := 0
	for pos < len(body) {
		open := strings.IndexByte(body[pos:], '<')
		if open < 0 {
			break
		}
		open += pos
		end := strings.IndexByte(body[open:], '>')
		if end < 0 {
			break
		}
		end += open

		tag := strings.TrimSpace(body[open+1 : end])
		pos = end + 1

		switch {
		case tag == "" || strings.HasPrefix(tag, "?") || strings.HasPrefix(tag, "!"):
			continue
		case strings.HasPrefix(tag, "/"):
			name := strings.ToUpper(strings.TrimSpace(tag[1:]))
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].name == name {
					stack = stack[:i]
					break
				}
			}
			continue
		}

		name := strings.ToUpper(strings.Fields(tag)[0])
		selfClosing := strings.HasSuffix(tag, "/")
		name = strings.TrimSuffix(name, "/")

		next := strings.IndexByte(body[pos:], '<')
		var text string
		if next < 0 {
			text = body[pos:]
		} else {
			text = body[pos : pos+next]
		}

		current := stack[len(stack)-1]
		value := strings.TrimSpace(text)

		if selfClosing {
			if _, exists := current.fields[name]; !exists {
				current.fields[name] = ""
			}
			continue
		}

		if value != "" {
			if _, exists := current.fields[name]; !exists {
				current.fields[name] = xmlEntities.Replace(value)
			}
			pos += len(text)
			closing := "</" + name + ">"
			if len(body)-pos >= len(closing) && strings.EqualFold(body[pos:pos+len(closing)], closing) {
				pos += len(closing)
			}
			continue
		}

		child := newOFXNode(name)
		current.children = append(current.children, child)
		stack = append(stack, child)
	}

	return root
}
