/**
 * @description
 * This file contains custom middleware for the HTTP router. The operator
 * endpoints are protected by JWT validation against the identity provider's
 * JWKS endpoint; the webhook endpoint is authenticated by signature instead
 * and bypasses this middleware entirely.
 *
 * @dependencies
 * - context, net/http, strings, sync: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Token parsing and validation.
 *
 * @notes
 * - The JWKS key set is cached per middleware instance with a short TTL. A
 *   kid that is not in the cache forces a refresh, which is how provider key
 *   rotation is picked up without a restart.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorIDContextKey is a custom type for the context key to avoid collisions.
type OperatorIDContextKey string

const operatorIDKey OperatorIDContextKey = "operatorID"

const jwksCacheTTL = 5 * time.Minute

// OperatorAuthMiddleware creates a middleware that validates operator JWTs
// against the configured JWKS endpoint. Signing keys are cached across
// requests; see jwksCache.
func OperatorAuthMiddleware(jwksURL string) func(http.Handler) http.Handler {
	cache := newJWKSCache(jwksURL, jwksCacheTTL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}

				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}

				publicKey, err := cache.key(kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}

				return publicKey, nil
			})

			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			// Optional audience / issuer enforcement via env
			if expectedAud := os.Getenv("OPS_JWT_AUDIENCE"); expectedAud != "" {
				if aud, ok := claims["aud"].(string); !ok || aud != expectedAud {
					http.Error(w, "Invalid audience", http.StatusUnauthorized)
					return
				}
			}
			if expectedIss := os.Getenv("OPS_JWT_ISSUER"); expectedIss != "" {
				if iss, ok := claims["iss"].(string); !ok || iss != expectedIss {
					http.Error(w, "Invalid issuer", http.StatusUnauthorized)
					return
				}
			}

			operatorID, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "Operator ID not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorIDKey, operatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// jwksCache holds the provider's RSA signing keys so token validation does
// not hit the JWKS endpoint on every admin request.
type jwksCache struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// key returns the public key for kid, refreshing the cached set when the kid
// is unknown or the cache is stale. If the refresh fails but a previously
// fetched key is still available, that key is served rather than failing
// every admin request on a transient JWKS outage.
func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}

	if err := c.refreshLocked(); err != nil {
		if key, ok := c.keys[kid]; ok {
			return key, nil
		}
		return nil, err
	}

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func (c *jwksCache) refreshLocked() error {
	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			// Skip malformed entries; other keys in the set may still be good.
			continue
		}
		keys[key.Kid] = pub
	}

	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey parses an RSA public key from its JWK modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

// GetOperatorID retrieves the authenticated operator's ID from the request context.
func GetOperatorID(ctx context.Context) (string, bool) {
	operatorID, ok := ctx.Value(operatorIDKey).(string)
	return operatorID, ok
}
