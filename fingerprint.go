package loner

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// key layout
const (
	keyPrefixLoners = "loners:queue:"
	keyInfixJob     = ":job:"
)

// QueueLockPrefix returns the key prefix shared by every lock of the queue.
func QueueLockPrefix(queue string) string {
	return keyPrefixLoners + queue + keyInfixJob
}

// LockKey returns the lock key of a job fingerprint within a queue.
func LockKey(queue, fingerprint string) string {
	return QueueLockPrefix(queue) + fingerprint
}

// Fingerprint returns the default identity of a job: the hex MD5 digest of
// the canonical JSON form {"class":typeName,"args":args}.
// Argument order is significant; map keys are encoded sorted. Arguments are
// hashed in their decoded JSON form (see CanonicalArgs), so a job fingerprints
// the same before enqueue and after a round trip through a queue.
func Fingerprint(typeName string, args []any) (string, error) {
	canonical, err := CanonicalArgs(args)
	if err != nil {
		return "", err
	}
	encoded, err := canonicalJSON(struct {
		Class string `json:"class"`
		Args  []any  `json:"args"`
	}{Class: typeName, Args: canonical})
	if err != nil {
		return "", err
	}
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// jobFingerprint computes the fingerprint of job under its resolved type.
// A Keyer type replaces the default fingerprint with its own key; it receives
// the canonical type name and the canonical arguments.
func jobFingerprint(ref TypeRef, job Job) (string, error) {
	keyer, ok := ref.Type.(Keyer)
	if !ok {
		return Fingerprint(ref.Name, job.Args)
	}
	canonical, err := CanonicalArgs(job.Args)
	if err != nil {
		return "", err
	}
	return keyer.UniqueKey(Job{Class: ref.Name, Args: canonical}), nil
}

// CanonicalArgs returns args as a JSON decoder would produce them: structs
// become map[string]any, slices become []any and numbers become json.Number
// in their shortest form (1.0 and 1 are the same number).
func CanonicalArgs(args []any) ([]any, error) {
	encoded, err := canonicalJSON(normalizeArgs(args))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var decoded []any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodableArgs, err)
	}
	for i, arg := range decoded {
		decoded[i] = canonicalNumbers(arg)
	}
	return normalizeArgs(decoded), nil
}

// canonicalNumbers rewrites every json.Number inside v to its shortest form.
func canonicalNumbers(v any) any {
	switch value := v.(type) {
	case json.Number:
		return canonicalNumber(value)
	case []any:
		for i, item := range value {
			value[i] = canonicalNumbers(item)
		}
		return value
	case map[string]any:
		for key, item := range value {
			value[key] = canonicalNumbers(item)
		}
		return value
	default:
		return v
	}
}

// canonicalNumber keeps integer literals as written, so integers beyond
// float64 precision survive, and re-formats every other number the way
// encoding/json formats a float64.
func canonicalNumber(n json.Number) json.Number {
	literal := n.String()
	if !strings.ContainsAny(literal, ".eE") {
		return n
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return n
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return n
	}
	return json.Number(encoded)
}

// argsEqual reports whether two argument lists have the same canonical encoding.
func argsEqual(a, b []any) (bool, error) {
	ea, err := canonicalArgsJSON(a)
	if err != nil {
		return false, err
	}
	eb, err := canonicalArgsJSON(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}

func canonicalArgsJSON(args []any) ([]byte, error) {
	canonical, err := CanonicalArgs(args)
	if err != nil {
		return nil, err
	}
	return canonicalJSON(canonical)
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

// canonicalJSON encodes v without HTML escaping and without the trailing newline.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodableArgs, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
