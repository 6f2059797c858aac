// Package auth provides token authentication for the local status API.
//
// It implements a 2-tier role model (viewer → operator):
//   - viewer reads state, attributes and history
//   - operator additionally writes attributes and requests refreshes
//
// Tokens are HS256 JWTs minted offline by the `reclaim token` command and
// validated by signature only. There is no user store.
package auth
