// Package conformance runs the scenario matrix against a real client and server.
//
// The tests skip unless the client binary is on PATH and a trivial query succeeds with
// the ambient PG* environment. Set COPYCONF_REQUIRE_LIVE=1 to turn the skip into a
// failure in environments that must have a database.
package conformance
