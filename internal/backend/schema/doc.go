// Package schema defines the rows tracked by reel: community chat messages,
// per-movie comments and watchlist entries.
//
// Every row is carried as a Record: the three columns the live-collection
// synchronizer cares about (id, owner, creation time) plus an opaque payload
// holding the table-specific columns. Table describes those columns so that the
// store, the HTTP API and the realtime hub validate input the same way.
//
// # Filter keys
//
// A FilterKey scopes a fetch or a push subscription to a record set. The
// textual form mirrors the realtime filter grammar used by the web client:
//
//	community_messages                 all chat messages
//	movie_comments:movie_id=eq.550     comments for one movie
//	watchlist:user_id=eq.<principal>   one user's watchlist
//
// Only columns declared filterable are accepted, which keeps the filter safe
// to interpolate as a column name in SQL.
package schema
