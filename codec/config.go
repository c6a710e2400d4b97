package codec

// Config is the encoding configuration of one call or responder.
//
// Resolution for each direction, first non-nil wins:
//
//	Request / Response override → Value (per-method default) → session default → raw
type Config struct {
	Value    Codec
	Request  Codec
	Response Codec
}

// RequestCodec resolves the codec for the value carried by a request.
func (c Config) RequestCodec(session Codec) Codec {
	return first(c.Request, c.Value, session)
}

// ResponseCodec resolves the codec for the value carried by a response.
func (c Config) ResponseCodec(session Codec) Codec {
	return first(c.Response, c.Value, session)
}

func first(codecs ...Codec) Codec {
	for _, c := range codecs {
		if c != nil {
			return c
		}
	}
	return nil
}
