package registry

import "github.com/aliskhannn/image-transcoder/internal/model"

const mb = int64(1 << 20)

// Pair is one row of the conversion table.
type Pair struct {
	Source     model.FormatID
	Target     model.FormatID
	Algorithms []model.Algorithm
}

var (
	jpegAlgorithms = []model.Algorithm{model.AlgorithmStandard, model.AlgorithmMozJPEG}
	pngAlgorithms  = []model.Algorithm{model.AlgorithmStandard, model.AlgorithmMaxCompression}
	webpAlgorithms = []model.Algorithm{model.AlgorithmStandard, model.AlgorithmLossless}
	plain          = []model.Algorithm{model.AlgorithmStandard}
)

// DefaultFormats is the fixed list of supported formats.
var DefaultFormats = []FormatDescriptor{
	{ID: "jpeg", Category: model.CategoryRaster, Extensions: []string{"jpg", "jpeg", "jpe"}, MIMETypes: []string{"image/jpeg", "image/pjpeg"}, MaxSize: 50 * mb, SupportsQuality: true, SupportsResize: true},
	{ID: "png", Category: model.CategoryRaster, Extensions: []string{"png"}, MIMETypes: []string{"image/png"}, MaxSize: 50 * mb, SupportsResize: true},
	{ID: "webp", Category: model.CategoryRaster, Extensions: []string{"webp"}, MIMETypes: []string{"image/webp"}, MaxSize: 50 * mb, SupportsQuality: true, SupportsResize: true},
	{ID: "gif", Category: model.CategoryRaster, Extensions: []string{"gif"}, MIMETypes: []string{"image/gif"}, MaxSize: 20 * mb},
	{ID: "bmp", Category: model.CategoryRaster, Extensions: []string{"bmp"}, MIMETypes: []string{"image/bmp", "image/x-ms-bmp"}, MaxSize: 50 * mb, SupportsResize: true},
	{ID: "tiff", Category: model.CategoryRaster, Extensions: []string{"tiff", "tif"}, MIMETypes: []string{"image/tiff"}, MaxSize: 100 * mb, SupportsResize: true},
	{ID: "svg", Category: model.CategoryVector, Extensions: []string{"svg"}, MIMETypes: []string{"image/svg+xml"}, MaxSize: 10 * mb, SupportsResize: true},
	{ID: "dng", Category: model.CategoryRaw, Extensions: []string{"dng"}, MIMETypes: []string{"image/x-adobe-dng"}, MaxSize: 150 * mb},
	{ID: "cr2", Category: model.CategoryRaw, Extensions: []string{"cr2"}, MIMETypes: []string{"image/x-canon-cr2"}, MaxSize: 150 * mb},
	{ID: "nef", Category: model.CategoryRaw, Extensions: []string{"nef"}, MIMETypes: []string{"image/x-nikon-nef"}, MaxSize: 150 * mb},
	{ID: "arw", Category: model.CategoryRaw, Extensions: []string{"arw"}, MIMETypes: []string{"image/x-sony-arw"}, MaxSize: 150 * mb},
}

// DefaultPairs enumerates every legal conversion. It is deliberately not the
// cross-product: vector sources cannot use the mozjpeg encoder, raw files are
// never a target, and gif output is only produced from gif.
var DefaultPairs = []Pair{
	{Source: "jpeg", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "jpeg", Target: "png", Algorithms: pngAlgorithms},
	{Source: "jpeg", Target: "webp", Algorithms: webpAlgorithms},
	{Source: "jpeg", Target: "tiff", Algorithms: plain},

	{Source: "png", Target: "png", Algorithms: pngAlgorithms},
	{Source: "png", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "png", Target: "webp", Algorithms: webpAlgorithms},

	{Source: "webp", Target: "webp", Algorithms: webpAlgorithms},
	{Source: "webp", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "webp", Target: "png", Algorithms: pngAlgorithms},

	{Source: "gif", Target: "gif", Algorithms: plain},
	{Source: "gif", Target: "png", Algorithms: pngAlgorithms},
	{Source: "gif", Target: "webp", Algorithms: webpAlgorithms},

	{Source: "bmp", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "bmp", Target: "png", Algorithms: pngAlgorithms},
	{Source: "bmp", Target: "webp", Algorithms: webpAlgorithms},

	{Source: "tiff", Target: "tiff", Algorithms: plain},
	{Source: "tiff", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "tiff", Target: "png", Algorithms: pngAlgorithms},
	{Source: "tiff", Target: "webp", Algorithms: webpAlgorithms},

	{Source: "svg", Target: "png", Algorithms: pngAlgorithms},
	{Source: "svg", Target: "jpeg", Algorithms: plain},
	{Source: "svg", Target: "webp", Algorithms: webpAlgorithms},

	{Source: "dng", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "dng", Target: "png", Algorithms: pngAlgorithms},
	{Source: "dng", Target: "tiff", Algorithms: plain},
	{Source: "dng", Target: "webp", Algorithms: webpAlgorithms},
	{Source: "cr2", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "cr2", Target: "png", Algorithms: pngAlgorithms},
	{Source: "cr2", Target: "tiff", Algorithms: plain},
	{Source: "cr2", Target: "webp", Algorithms: webpAlgorithms},
	{Source: "nef", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "nef", Target: "png", Algorithms: pngAlgorithms},
	{Source: "nef", Target: "tiff", Algorithms: plain},
	{Source: "nef", Target: "webp", Algorithms: webpAlgorithms},
	{Source: "arw", Target: "jpeg", Algorithms: jpegAlgorithms},
	{Source: "arw", Target: "png", Algorithms: pngAlgorithms},
	{Source: "arw", Target: "tiff", Algorithms: plain},
	{Source: "arw", Target: "webp", Algorithms: webpAlgorithms},
}

// Default returns the registry built from DefaultFormats and DefaultPairs.
func Default() *Registry {
	return MustNew(DefaultFormats, DefaultPairs)
}
