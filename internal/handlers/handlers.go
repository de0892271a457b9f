// Package handlers содержит HTTP обработчики REST API статистики происшествий.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/akozadaev/go_crime_analytical_system/internal/filter"
	"github.com/akozadaev/go_crime_analytical_system/internal/jobs"
	"github.com/akozadaev/go_crime_analytical_system/internal/models"
	"github.com/akozadaev/go_crime_analytical_system/internal/pipeline"
	"github.com/gorilla/mux"
)

// JobService принимает задания и отвечает на опросы.
type JobService interface {
	Submit(ctx context.Context, work jobs.Work) (string, error)
	Poll(ctx context.Context, id string) (jobs.PollResult, error)
}

// CityLister отдает справочник городов.
type CityLister interface {
	GetCities(ctx context.Context) ([]*models.City, error)
}

// Handlers содержит зависимости для обработки HTTP запросов.
type Handlers struct {
	jobs   JobService
	cities CityLister
	log    *slog.Logger
}

// NewHandlers создает новый экземпляр Handlers.
func NewHandlers(jobs JobService, cities CityLister, log *slog.Logger) *Handlers {
	return &Handlers{
		jobs:   jobs,
		cities: cities,
		log:    log.With(slog.String("component", "http")),
	}
}

// SubmitResponse возвращается при постановке задания в очередь.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// PollResponse описывает состояние задания. Result присутствует только для completed.
type PollResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	Error  string          `json:"error,omitempty"`
}

// ErrorResponse описывает тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitAggregation ставит в очередь задание агрегации для города.
// Эндпоинт: GET /city/{cityid}/data
//
// @Summary      Поставить задание агрегации
// @Description  Разбирает фильтр и создает асинхронное задание. Результат получают опросом /jobs/{id}.
// @Tags         jobs
// @Produce      json
// @Param        cityid      path      int     true   "Идентификатор города"
// @Param        sdt         query     string  false  "Начальная дата MM/DD/YYYY"
// @Param        edt         query     string  false  "Конечная дата MM/DD/YYYY, включительно"
// @Param        stime       query     int     false  "Начальный час 0-23"
// @Param        etime       query     int     false  "Конечный час 0-23"
// @Param        dotw        query     string  false  "Дни недели через запятую, 0 - воскресенье"
// @Param        crimetypes  query     string  false  "Категории через запятую"
// @Param        locdesc1    query     string  false  "Первые уровни мест через запятую"
// @Param        locdesc2    query     string  false  "Вторые уровни мест через запятую"
// @Param        locdesc3    query     string  false  "Третьи уровни мест через запятую"
// @Param        blockid     query     int     false  "Идентификатор квартала"
// @Param        loadtype    query     string  false  "Семейство графиков: map, date, time, dow, category, locationDescription"
// @Param        catdepth    query     int     false  "Глубина дерева категорий 1-3"
// @Param        locdepth    query     int     false  "Глубина дерева мест 1-3"
// @Success      202         {object}  SubmitResponse
// @Failure      400         {object}  ErrorResponse  "Неверный фильтр"
// @Failure      503         {object}  ErrorResponse  "Очередь заполнена"
// @Router       /city/{cityid}/data [get]
func (h *Handlers) SubmitAggregation(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, jobs.WorkAggregate)
}

// SubmitExport ставит в очередь выгрузку происшествий в CSV.
// Эндпоинт: GET /city/{cityid}/download
//
// @Summary      Поставить задание выгрузки
// @Description  Принимает те же параметры фильтра, что и /city/{cityid}/data. Готовый результат отдается файлом text/csv.
// @Tags         jobs
// @Produce      json
// @Param        cityid  path      int  true  "Идентификатор города"
// @Success      202     {object}  SubmitResponse
// @Failure      400     {object}  ErrorResponse  "Неверный фильтр"
// @Failure      503     {object}  ErrorResponse  "Очередь заполнена"
// @Router       /city/{cityid}/download [get]
func (h *Handlers) SubmitExport(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, jobs.WorkExport)
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, kind jobs.WorkKind) {
	params := r.URL.Query()
	params.Set(filter.ParamCity, mux.Vars(r)["cityid"])

	spec, err := filter.Parse(params)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	id, err := h.jobs.Submit(r.Context(), jobs.Work{Kind: kind, Filter: spec})
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "job queue is full, retry later"})
		return
	case err != nil:
		h.log.Error("submit failed", slog.String("kind", string(kind)), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

// PollJob возвращает состояние задания. Готовый результат выдается один раз.
// Эндпоинт: GET /jobs/{id}
//
// @Summary      Опросить задание
// @Description  pending, completed с результатом, failed или 404 not-found. После выдачи результата задание удаляется. Результат выгрузки отдается как text/csv.
// @Tags         jobs
// @Produce      json
// @Produce      text/csv
// @Param        id   path      string  true  "Идентификатор задания"
// @Success      200  {object}  PollResponse
// @Failure      404  {object}  PollResponse  "Задание не найдено или уже выдано"
// @Failure      500  {object}  ErrorResponse
// @Router       /jobs/{id} [get]
func (h *Handlers) PollJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := h.jobs.Poll(r.Context(), id)
	if err != nil {
		h.log.Error("poll failed", slog.String("job_id", id), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	switch res.Status {
	case jobs.StatusNotFound:
		writeJSON(w, http.StatusNotFound, PollResponse{Status: string(res.Status)})
	case jobs.StatusCompleted:
		if res.Result.ContentType == pipeline.ContentTypeCSV {
			w.Header().Set("Content-Type", pipeline.ContentTypeCSV)
			w.Header().Set("Content-Disposition", `attachment; filename="incidents-`+id+`.csv"`)
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(res.Result.Body); err != nil {
				h.log.Warn("failed to write export", slog.String("job_id", id), slog.Any("err", err))
			}
			return
		}
		writeJSON(w, http.StatusOK, PollResponse{Status: string(res.Status), Result: res.Result.Body})
	default:
		writeJSON(w, http.StatusOK, PollResponse{Status: string(res.Status), Error: res.Error})
	}
}

// GetCities возвращает список городов для выбора.
// Эндпоинт: GET /cities
//
// @Summary      Получить список городов
// @Description  Возвращает города из справочника PostgreSQL в виде "City, State, Country"
// @Tags         cities
// @Produce      json
// @Success      200  {array}   models.CityOption
// @Failure      500  {object}  ErrorResponse  "Внутренняя ошибка сервера"
// @Router       /cities [get]
func (h *Handlers) GetCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.cities.GetCities(r.Context())
	if err != nil {
		h.log.Error("failed to list cities", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	options := make([]models.CityOption, 0, len(cities))
	for _, c := range cities {
		options = append(options, models.CityOption{ID: c.ID, String: CityLabel(c)})
	}
	writeJSON(w, http.StatusOK, options)
}

// CityLabel собирает подпись "City, State, Country". Пустой штат пропускается.
func CityLabel(c *models.City) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.City, c.State, c.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, titleCase(p))
		}
	}
	return strings.Join(parts, ", ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// HealthCheck обрабатывает GET запрос на проверку работоспособности сервиса.
// Эндпоинт: GET /health
//
// @Summary      Проверка работоспособности сервиса
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
