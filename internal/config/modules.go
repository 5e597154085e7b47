package config

import (
	_ "github.com/any-hub/tilehub/internal/blobstore/badgerstore"
	_ "github.com/any-hub/tilehub/internal/blobstore/filestore"
	_ "github.com/any-hub/tilehub/internal/blobstore/memstore"
	_ "github.com/any-hub/tilehub/internal/blobstore/s3store"
)
