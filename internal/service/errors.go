package service

import "chatroom/internal/apperr"

// Sentinel-shaped constructors kept in the teacher's errors.go slot so
// callers read a name instead of an inline apperr.*f call at every site
// that raises one of these particular conditions.
func errEmailTaken() error         { return apperr.Conflictf("email already registered") }
func errInvalidCredentials() error { return apperr.AuthMissingf("invalid credentials") }
func errRoomNotFound() error       { return apperr.NotFoundf("room not found") }
func errUserNotFound() error       { return apperr.NotFoundf("user not found") }
func errMessageNotFound() error    { return apperr.NotFoundf("message not found") }
func errNotMember() error          { return apperr.Forbiddenf("not a member of this room") }
func errAlreadyMember() error      { return apperr.Conflictf("already a member") }
