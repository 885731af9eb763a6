// Package auth provides authentication for dashboard users and agents.
//
// Dashboard users log in with a username and bcrypt-hashed password and
// receive a short-lived HS256 JWT. Agents authenticate with a shared key.
// When neither a JWT secret nor an agent key is configured, the gateway
// runs open for trusted LAN deployments.
package auth
