// Package domain holds the value types shared by the audience engine:
// contacts and their orders, segment rules, campaigns and their
// recipients, suppressions, email events and automations.
//
// Nothing here touches the database, the network or other internal
// packages. Struct tags and small pure helpers (email normalization,
// suppression severity, status predicates) are fine; behavior that needs
// I/O lives in internal/service.
package domain
