/*
Package contentstore is the client for the content-addressed blob store.

Blobs (function code artifacts, backup dumps) are referenced by content-hash:
equal hashes imply byte equality, so artifacts are shared freely between
entities and never owned by any one of them.

Downloads fall back from the primary backend to alternate gateways with a
small exponential retry budget per backend; uploads go to the primary only.
The Store interface is what the supervisor and backup worker consume, which
keeps them testable against an in-memory fake.
*/
package contentstore
