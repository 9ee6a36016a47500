package connector

import "github.com/ceyewan/idgend/xerrors"

var (
	ErrConnection  = xerrors.New("connector: connection failed")
	ErrConfig      = xerrors.New("connector: invalid config")
	ErrHealthCheck = xerrors.New("connector: health check failed")
	ErrClosed      = xerrors.Derive(xerrors.ErrClosed, "connector: already closed")
)
