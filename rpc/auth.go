package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"trustledger/crypto"
)

var errTokenSubject = errors.New("token subject must be a ledger identity")

type subjectKey struct{}

func (s *Server) authEnabled() bool {
	return s.cfg.AuthToken != "" || s.cfg.JWTSecret != ""
}

// requireAuth checks the bearer credential of a mutating request. The static
// token authenticates an operator who may act for any identity. A JWT binds
// the request to the identity named by its subject, which the returned
// request carries in its context.
func (s *Server) requireAuth(r *http.Request) (*http.Request, *RPCError) {
	if !s.authEnabled() {
		return r, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return r, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return r, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if s.cfg.AuthToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1 {
		return r, nil
	}
	if s.cfg.JWTSecret != "" {
		subject, err := s.verifyJWT(token)
		if err != nil {
			return r, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
		}
		s.logger.Debug("rpc caller authenticated", "subject", subject.Hex())
		return r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)), nil
	}
	return r, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

// verifyJWT checks an HS256 token and returns the identity in its subject.
func (s *Server) verifyJWT(raw string) (common.Address, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.JWTIssuer))
	}
	if s.cfg.JWTLeeway > 0 {
		opts = append(opts, jwt.WithLeeway(s.cfg.JWTLeeway))
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, errors.New("token validation failed")
	}
	subject, err := crypto.ParseIdentity(claims.Subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errTokenSubject, err)
	}
	return subject, nil
}

// authorizeActor rejects requests whose acting identity differs from the
// token subject. Requests without a bound subject pass.
func authorizeActor(w http.ResponseWriter, r *http.Request, req *RPCRequest, field string, actor common.Address) bool {
	subject, ok := r.Context().Value(subjectKey{}).(common.Address)
	if !ok || subject == actor {
		return true
	}
	writeError(w, http.StatusForbidden, req.ID, codeForbidden, "forbidden",
		fmt.Sprintf("%s %s does not match token subject %s", field, actor.Hex(), subject.Hex()))
	return false
}
