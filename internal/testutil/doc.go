// Package testutil contains helper builders and stub implementations used
// across tests to reduce boilerplate when constructing resources, plugins and
// tools and asserting lifecycle behavior. These helpers are intentionally
// minimal and avoid adding third-party dependencies. They are not intended
// for production usage.
package testutil
