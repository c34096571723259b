// Package pool implements the miner side of the pool protocol: the version
// handshake and the fetch/exchange request-response cycle.
package pool

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bardlex/gomp-miner/pkg/errors"
)

// Request markers and replies on the wire
const (
	MarkerVersion  = "version"
	MarkerFetch    = "miner_fetch"
	MarkerExchange = "miner_exch"
	ReplyOK        = "ok"

	// DefaultPort is used when the pool address has no port
	DefaultPort = 5659

	// noIdentity is what a client without a reward identity announces
	noIdentity = "None"
)

// HandshakeFormat selects how the version and reward identity are framed
type HandshakeFormat string

const (
	// FormatFrames sends "version", the client version and the identity as three frames
	FormatFrames HandshakeFormat = "frames"
	// FormatJoined sends "version" and one "<version> <identity>" frame
	FormatJoined HandshakeFormat = "joined"
)

// ParseHandshakeFormat validates a format name; empty selects FormatFrames
func ParseHandshakeFormat(s string) (HandshakeFormat, error) {
	switch HandshakeFormat(strings.ToLower(s)) {
	case "", FormatFrames:
		return FormatFrames, nil
	case FormatJoined:
		return FormatJoined, nil
	default:
		return "", errors.New(errors.ErrorTypeConfig, "parse_handshake_format",
			fmt.Sprintf("unknown handshake format %q", s))
	}
}

// handshakeFrames builds the frames announcing the client to the pool
func handshakeFrames(format HandshakeFormat, version, identity string) []any {
	if identity == "" {
		identity = noIdentity
	}
	if format == FormatJoined {
		return []any{MarkerVersion, version + " " + identity}
	}
	return []any{MarkerVersion, version, identity}
}

// Job is a unit of work issued by the pool
type Job struct {
	Difficulty float64
	Address    string
	Hash       string
}

// String implements fmt.Stringer
func (j Job) String() string {
	return fmt.Sprintf("Job(diff=%g, address=%s, hash=%s)", j.Difficulty, j.Address, j.Hash)
}

// Result carries a found solution back to the pool. It has the Job shape on
// the wire: achieved difficulty, the job's context hash, and the solution.
type Result struct {
	Difficulty float64
	Address    string
	Hash       string
}

// NewResult builds the submission for a solution found against job
func NewResult(job Job, solution string, achieved float64) *Result {
	return &Result{
		Difficulty: achieved,
		Address:    job.Hash,
		Hash:       solution,
	}
}

// Block returns the context hash the solution was found for
func (r *Result) Block() string { return r.Address }

// Nonce returns the solution token
func (r *Result) Nonce() string { return r.Hash }

func (r *Result) frames() []any {
	return []any{MarkerExchange, r.Difficulty, r.Address, r.Hash}
}

// parseJob decodes the three job frames in wire order
func parseJob(difficulty, address, hash []byte) (Job, error) {
	diff, err := strconv.ParseFloat(strings.TrimSpace(string(difficulty)), 64)
	if err != nil {
		return Job{}, errors.Wrap(err, errors.ErrorTypeProtocol, "parse_job", "difficulty is not a number").
			WithContext("frame", string(difficulty))
	}

	return Job{
		Difficulty: diff,
		Address:    string(address),
		Hash:       string(hash),
	}, nil
}
