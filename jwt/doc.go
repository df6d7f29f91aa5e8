// Package jwt mints and verifies the short-lived challenge tokens handed to a
// client between primary sign-in and second-factor verification.
//
// A challenge token names the user and the server-side challenge record. It
// grants nothing by itself; the record must still exist and be within its
// attempt budget when the second factor is presented.
package jwt
