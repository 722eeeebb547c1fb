// Package storage manages the PostgreSQL connection and schema for the
// user and role directories.
//
// The schema follows a primary-table plus index-table layout: the canonical
// record lives in users/roles, and point lookups by alternate keys go
// through denormalized secondary tables (users_by_username, users_by_email,
// users_by_api_key, roles_by_name) that the directories keep in sync.
package storage
