package vcontrold

import (
	"math"
	"strconv"
	"strings"
)

// Daemon response conventions.
const (
	// errorSentinel prefixes a response the daemon uses to reject a command.
	errorSentinel = "ERR"

	// okMarker prefixes a successful write acknowledgement.
	okMarker = "OK"

	// floatPrecision is the number of decimals kept by ParseFloat.
	floatPrecision = 100
)

// ResponseKind classifies a response body.
type ResponseKind int

// Response kinds.
const (
	ResponseEmpty ResponseKind = iota
	ResponseOK
	ResponseError
	ResponseData
)

// String returns the kind name for logging.
func (k ResponseKind) String() string {
	switch k {
	case ResponseEmpty:
		return "empty"
	case ResponseOK:
		return "ok"
	case ResponseError:
		return "error"
	case ResponseData:
		return "data"
	default:
		return "unknown"
	}
}

// Response is a framed daemon reply with the prompt already removed.
type Response struct {
	Kind ResponseKind
	Body string
}

// Classify determines the kind of a trimmed response body.
func Classify(body string) ResponseKind {
	switch {
	case body == "":
		return ResponseEmpty
	case strings.HasPrefix(body, errorSentinel):
		return ResponseError
	case strings.HasPrefix(body, okMarker):
		return ResponseOK
	default:
		return ResponseData
	}
}

// trimBody cuts raw at the first prompt marker and strips surrounding
// whitespace, including CR and LF.
func trimBody(raw, prompt string) string {
	if prompt != "" {
		if i := strings.Index(raw, prompt); i >= 0 {
			raw = raw[:i]
		}
	}
	return strings.TrimSpace(raw)
}

// ParseString returns the body verbatim, minus surrounding whitespace.
func ParseString(body string) string {
	return strings.TrimSpace(body)
}

// ParseInt parses the first whitespace-delimited token of body as a
// base-10 integer. "7 starts" yields 7.
func ParseInt(body string) (int, error) {
	tok := firstToken(body)
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, &DecodeError{Kind: "int", Body: ParseString(body), Err: err}
	}
	return v, nil
}

// ParseFloat parses the first whitespace-delimited token of body as a
// decimal number and rounds it to two decimal places. "21.456 Grad" yields
// 21.46.
func ParseFloat(body string) (float64, error) {
	tok := firstToken(body)
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, &DecodeError{Kind: "float", Body: ParseString(body), Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &DecodeError{Kind: "float", Body: ParseString(body), Err: strconv.ErrRange}
	}
	return math.Round(v*floatPrecision) / floatPrecision, nil
}

func firstToken(body string) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
