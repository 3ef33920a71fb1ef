// Package account loads the seller session from the marketplace front page.
//
// The page carries the user id and CSRF token in the body's data-app-data
// attribute, the display name, the balance and sales badges, and a fresh
// PHPSESSID cookie. Refresher keeps that session current in the background
// and records a rolling balance history.
package account
