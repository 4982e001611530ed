package inventory

import "time"

type Config struct {
	// Source selects the catalog: "http" scrapes the dealership site, "static" serves the fallback list.
	Source       string        `default:"http"`
	TTL          time.Duration `envconfig:"TTL" default:"3h"`
	FetchTimeout time.Duration `split_words:"true" default:"10s"`
	RetryAfter   time.Duration `split_words:"true" default:"1m"`

	NewURL       string   `envconfig:"NEW_URL" default:"https://vw-eurocity.com.mx/info/consultas.ashx"`
	NewForm      string   `split_words:"true" default:"r=cargaAutosTodos"`
	NewBustParam string   `split_words:"true" default:"x"`
	NewPaths     []string `split_words:"true" default:"#.modelo,#.Modelo"`

	UsedURL     string   `split_words:"true" default:"https://vw-eurocity.com.mx/SeminuevosMotorV3/info/consultas.aspx"`
	UsedForm    string   `split_words:"true" default:"r=CheckDist"`
	UsedPaths   []string `split_words:"true" default:"LiAutos.#.Modelo"`
	UsedReferer string   `split_words:"true" default:"https://vw-eurocity.com.mx/Seminuevos/"`

	UserAgent string `split_words:"true" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64)"`
}
