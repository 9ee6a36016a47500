package config

import "github.com/ceyewan/idgend/xerrors"

var (
	// ErrReadConfig 配置文件存在但无法解析
	ErrReadConfig = xerrors.New("config: read config file failed")
	// ErrNotLoaded Load 之前调用了 Watch
	ErrNotLoaded = xerrors.New("config: loader not loaded")
)
