// Package logger envuelve zap con un logger global y loggers por request.
//
// main llama a Init una vez; los middlewares HTTP guardan en el contexto un
// logger con request_id y método, y el resto del código lo obtiene con From.
//
// Las entradas con el campo Category se copian además a un Ring de tamaño
// fijo, que es el log visible del plugin:
//
//	ring := logger.NewRing(cfg.Logging.Limit)
//	logger.Init(logger.Config{Env: "prod", Level: "info", Ring: ring})
//	defer logger.Sync()
//
//	logger.From(ctx).Info("user logged in", logger.Sub(sub), logger.Category("success"))
package logger
