/*
The sync package implements amp's file synchronization protocol. It turns
local filesystem changes into requests that a remote workspace applies.

There are two kinds of paths:
1) FullPaths -- These are paths on the user's machine. They're only valid for
   reading file contents locally.
2) RelativePaths -- These are the same paths relative to the workspace root,
   always separated by `/`. They're the only identifiers sent over the wire.
A PathPair carries both so that neither is ever derived twice.

Every filesystem change is classified into an Intent. The first sync of a
session is an Override, which replaces the remote workspace with an archive of
every tracked file. Afterwards each change becomes a Create, Modify or Remove
request. Renames and other changes (such as permission updates) have no
representation in the protocol and are dropped.

Payloads are tar archives whose entries are named by RelativePath. Only
regular files become entries. A created directory is still reported in the
request's paths so the remote side can create it.
*/
package sync
