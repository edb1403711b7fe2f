// Package lease issues and verifies lease tokens.
//
// A lease token is a JWS (HS256) naming a job assignment.
// Nodes present it on reports and heartbeats. The service compares its lease id
// with the current assignment, so a token of a released assignment is rejected.
//
// Tokens have no "exp". Lease expiry is held by the job registry.
package lease

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cmcf/autoprocess/pkg/domain"
)

var ErrInvalidToken = errors.New("invalid lease token")

const issuer = "autoprocess/dpservice"

// Claims of a lease token.
//
// ID (jti) is the lease id, and Subject (sub) is the node id.
type Claims struct {
	jwt.RegisteredClaims

	// private claims
	JobId string `json:"autoprocess/jobId"`
}

type Issuer struct {
	kid string
	key []byte
}

// NewIssuer creates an Issuer with secret.
//
// When secret is empty, a random secret is generated.
// Then tokens are not valid across service restarts.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	sum := sha256.Sum256(secret)
	return &Issuer{kid: "lease-" + hex.EncodeToString(sum[:4]), key: secret}, nil
}

// Issue signs a token for the assignment.
func (i *Issuer) Issue(a domain.NodeAssignment) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       a.LeaseId,
			Subject:  a.NodeId,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(a.AssignedAt),
		},
		JobId: a.JobId,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = i.kid
	return tok.SignedString(i.key)
}

// Verify checks the signature of token and returns its claims.
//
// # Returns
//
// - error: ErrInvalidToken when the token is broken or not signed by this Issuer.
func (i *Issuer) Verify(token string) (Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(t *jwt.Token) (any, error) {
			if kid, ok := t.Header["kid"].(string); ok && kid != i.kid {
				return nil, fmt.Errorf("unknown key: %s", kid)
			}
			return i.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.JobId == "" {
		return Claims{}, fmt.Errorf("%w: lacking claims", ErrInvalidToken)
	}
	return *claims, nil
}

// Check verifies that token is of the current assignment of job.
//
// # Returns
//
// - error: domain.ErrLeaseLost when the job has no assignment or another assignment,
// or ErrInvalidToken.
func (i *Issuer) Check(token string, job domain.Job) (Claims, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.JobId != job.Id() {
		return Claims{}, fmt.Errorf("%w: token is for job %s", ErrInvalidToken, claims.JobId)
	}
	a := job.Assignment
	if a == nil || a.LeaseId != claims.ID || a.NodeId != claims.Subject {
		return claims, fmt.Errorf("%w: lease %s of %s is not active", domain.ErrLeaseLost, claims.ID, claims.Subject)
	}
	return claims, nil
}
